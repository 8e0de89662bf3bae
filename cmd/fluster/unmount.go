package main

import "github.com/jacobsa/fuse"

func fuseUnmount(mountPoint string) error {
	return fuse.Unmount(mountPoint)
}
