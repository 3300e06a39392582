package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagListen  bool
	flagAddr    string
	flagName    string
	flagMessage string
	flagPSK     string
	flagPSKID   string
	flagHelp    bool
)

func init() {
	flag.BoolVarP(&flagListen, "listen", "l", false, "Run as echo server")
	flag.StringVarP(&flagAddr, "addr", "a", "localhost:4433", "Address to dial or listen on")
	flag.StringVarP(&flagName, "name", "n", "localhost", "Server name (SNI)")
	flag.StringVarP(&flagMessage, "message", "m", "ping", "Message to send")
	flag.StringVarP(&flagPSK, "psk", "k", "", "Pre-shared key (hex); uses PSK instead of certificates")
	flag.StringVarP(&flagPSKID, "psk-id", "i", "tlsping", "Pre-shared key identity")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Show usage")
}

func help() {
	title := color.New(color.Bold)
	title.Println("tlsping - TLS 1.3 echo client/server")
	fmt.Println()
	fmt.Println("Serve:  tlsping --listen --addr :4433")
	fmt.Println("Ping:   tlsping --addr localhost:4433 --message hello")
	fmt.Println()
	flag.PrintDefaults()
}
