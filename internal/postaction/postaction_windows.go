//go:build windows

package postaction

func shutdownArgv() ([]string, error) { return []string{"shutdown", "/s", "/t", "60"}, nil }

func sleepArgv() ([]string, error) {
	return []string{"rundll32", "powrprof.dll,SetSuspendState", "0,1,0"}, nil
}

func shellArgv(c string) []string { return []string{"cmd", "/C", c} }
