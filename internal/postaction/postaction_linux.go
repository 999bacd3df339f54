//go:build linux

package postaction

func shutdownArgv() ([]string, error) { return []string{"systemctl", "poweroff"}, nil }
func sleepArgv() ([]string, error)    { return []string{"systemctl", "suspend"}, nil }
func shellArgv(c string) []string     { return []string{"/bin/sh", "-c", c} }
