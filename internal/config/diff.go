package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied live through the logger's level variable.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the changed sections that only take effect on
	// the next start.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Observe.LogLevel != new.Observe.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Observe.LogLevel
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, new.Server},
		{"audio", old.Audio, new.Audio},
		{"speech", old.Speech, new.Speech},
		{"render", old.Render, new.Render},
		{"observe.listen_addr", old.Observe.ListenAddr, new.Observe.ListenAddr},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
