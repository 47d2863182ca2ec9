package svcinstall

// Version is the current version of the go-svcinstall library
const Version = "1.0.0"
