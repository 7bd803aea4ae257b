package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/subscription-broker/internal/broker/logging"
	"github.com/adred-codev/subscription-broker/internal/subscriber"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: subscriber <client_id> <broker_ip> <broker_port>")
		os.Exit(1)
	}
	id, brokerIP, portArg := os.Args[1], os.Args[2], os.Args[3]
	if len(id) >= 10 {
		fmt.Fprintln(os.Stderr, "client_id must be shorter than 10 characters")
		os.Exit(1)
	}
	if _, err := strconv.ParseUint(portArg, 10, 16); err != nil {
		fmt.Fprintf(os.Stderr, "invalid broker_port %q: %v\n", portArg, err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: "info", Format: "pretty"}, "subscriber")

	addr := net.JoinHostPort(brokerIP, portArg)
	client, err := subscriber.Dial(addr, id, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := client.Run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "subscriber: %v\n", err)
		os.Exit(1)
	}
}
