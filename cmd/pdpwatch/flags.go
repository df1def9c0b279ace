package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RunFlags struct {
	ConfigPath  string
	Python      string
	PDPDir      string
	AdminListen string
	Daemonize   bool
	PidFile     string
	LogFile     string
}

type ProbeFlags struct {
	HTTP    string
	TCP     string
	Expect  int
	Timeout time.Duration
}

type ClientFlags struct {
	Admin    string
	User     string
	Password string
	Token    string
	CACert   string
	Insecure bool
	Timeout  time.Duration
}
