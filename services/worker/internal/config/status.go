package config

import (
	"fmt"
	"io"
	"strconv"

	"github.com/muesli/termenv"
)

// VarStatus reports whether one required setting has a value.
type VarStatus struct {
	Name string
	Set  bool
}

// Status lists the required settings in the order they are checked.
func (c Config) Status() []VarStatus {
	return []VarStatus{
		{"BASE_URL", c.WeatherLink.BaseURL != ""},
		{"API_KEY", c.WeatherLink.APIKey != ""},
		{"X_API_SECRET", c.WeatherLink.APISecret != ""},
		{"STATION_ID", c.WeatherLink.StationID != ""},
		{"TARGET_LSID", c.WeatherLink.TargetLSID != nil},
		{"DB_HOST", c.Database.Host != ""},
		{"DB_PORT", c.Database.Port != ""},
		{"DB_NAME", c.Database.Name != ""},
		{"DB_USER", c.Database.User != ""},
		{"DB_PASSWORD", c.Database.Password != ""},
	}
}

// Armed reports whether every required setting has a value.
func (c Config) Armed() bool {
	for _, s := range c.Status() {
		if !s.Set {
			return false
		}
	}
	return true
}

// PrintStatus writes the environment check table to w. Colour is used only
// when w is a terminal that supports it.
func PrintStatus(w io.Writer, c Config) {
	out := termenv.NewOutput(w)
	ok := out.Color("2")
	bad := out.Color("1")

	fmt.Fprintln(w, out.String("ENVIRONMENT CHECK").Bold())
	for _, s := range c.Status() {
		state := out.String("ARMED").Foreground(ok)
		if !s.Set {
			state = out.String("CHECK .env").Foreground(bad).Bold()
		}
		fmt.Fprintf(w, "  %-14s %s\n", s.Name, state)
	}
	fmt.Fprintf(w, "  %-14s %s\n", "INTERVAL", strconv.Itoa(c.Worker.IntervalMinutes)+"m")
	fmt.Fprintf(w, "  %-14s %s\n", "FAILOVER_DIR", c.Worker.FailoverDir)
}
