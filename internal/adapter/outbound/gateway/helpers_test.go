package gateway

import "os"

func writeExecutable(path string) error {
	return os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0700)
}

func symlink(oldname, newname string) error {
	return os.Symlink(oldname, newname)
}
