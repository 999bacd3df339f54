//go:build darwin

package postaction

func shutdownArgv() ([]string, error) { return []string{"shutdown", "-h", "now"}, nil }
func sleepArgv() ([]string, error)    { return []string{"pmset", "sleepnow"}, nil }
func shellArgv(c string) []string     { return []string{"/bin/sh", "-c", c} }
