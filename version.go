package loom

// Version of the loom runtime.
const Version = "0.1.0"
