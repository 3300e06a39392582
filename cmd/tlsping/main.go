package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/embertls/embertls"
)

var (
	good = color.New(color.FgGreen).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
)

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	var err error
	if flagListen {
		err = serve()
	} else {
		err = ping()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, bad("error:"), err)
		os.Exit(1)
	}
}

func makeConfig(server bool) (*embertls.Config, error) {
	config := &embertls.Config{ServerName: flagName}
	if flagPSK != "" {
		key, err := hex.DecodeString(flagPSK)
		if err != nil {
			return nil, fmt.Errorf("bad --psk value: %w", err)
		}
		config.PSKs = []embertls.PSK{{Identity: []byte(flagPSKID), Key: key}}
		return config, nil
	}
	if server {
		chain, err := embertls.GenerateSelfSigned(flagName)
		if err != nil {
			return nil, err
		}
		config.Certificate = chain
	}
	return config, nil
}

func serve() error {
	ln, err := net.Listen("tcp", flagAddr)
	if err != nil {
		return err
	}
	defer ln.Close()
	fmt.Printf("listening on %s\n", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func(conn net.Conn) {
			defer conn.Close()
			if err := echo(conn); err != nil {
				fmt.Printf("%s %s: %v\n", bad("✗"), conn.RemoteAddr(), err)
			}
		}(conn)
	}
}

func echo(conn net.Conn) error {
	config, err := makeConfig(true)
	if err != nil {
		return err
	}
	tls := embertls.Server(conn, config)
	if err := tls.Handshake(); err != nil {
		return err
	}
	st := tls.ConnectionState()
	fmt.Printf("%s %s: %s\n", good("✓"), conn.RemoteAddr(), st.Suite)

	buf := make([]byte, 4096)
	for {
		n, err := tls.Read(buf)
		if err == io.EOF {
			return tls.Close()
		}
		if err != nil {
			return err
		}
		if _, err := tls.Write(buf[:n]); err != nil {
			return err
		}
	}
}

func ping() error {
	conn, err := net.Dial("tcp", flagAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	config, err := makeConfig(false)
	if err != nil {
		return err
	}
	tls := embertls.Client(conn, config)
	if err := tls.Handshake(); err != nil {
		return err
	}
	st := tls.ConnectionState()
	fmt.Printf("%s handshake complete: %s", good("✓"), st.Suite)
	if st.ResumedWithPSK {
		fmt.Print(" (PSK)")
	}
	fmt.Println()

	if _, err := tls.Write([]byte(flagMessage)); err != nil {
		return err
	}
	reply := make([]byte, len(flagMessage))
	if _, err := io.ReadFull(tls, reply); err != nil {
		return err
	}
	fmt.Printf("%s echo: %q\n", good("✓"), reply)
	return tls.Close()
}
