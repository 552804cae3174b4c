package utils

const (
	TempDirName = ".udpfetch-temp"
	LogFile     = ".udpfetch.log"
	JobTypeUDP  = "udp"
)
