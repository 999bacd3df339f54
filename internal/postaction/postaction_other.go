//go:build !linux && !darwin && !windows

package postaction

func shutdownArgv() ([]string, error) { return nil, ErrUnsupported }
func sleepArgv() ([]string, error)    { return nil, ErrUnsupported }
func shellArgv(c string) []string     { return []string{"/bin/sh", "-c", c} }
