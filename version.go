package mqtt4w

// Version is reported in the device block of every discovered entity.
var Version = "0.4.0"
