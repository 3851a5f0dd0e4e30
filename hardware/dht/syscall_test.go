package dht

import "syscall"

var (
	syscallEIO       error = syscall.EIO
	syscallETIMEDOUT error = syscall.ETIMEDOUT
)
