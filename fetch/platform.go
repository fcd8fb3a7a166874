package fetch

import "runtime"

func runtimeGOOS() string { return runtime.GOOS }
