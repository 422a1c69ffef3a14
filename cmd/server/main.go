// Command server runs the Snowcast station server: one station per file or
// directory given on the command line, streamed over UDP to controllers
// that subscribe over a TCP control connection on tcp_port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"snowcast/internal/admin"
	"snowcast/internal/broadcast"
	"snowcast/internal/dispatcher"
	"snowcast/internal/registry"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: server <tcp_port> <path> [path...]")
		os.Exit(1)
	}

	port := args[0]
	paths := args[1:]

	reg, err := registry.New(paths)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		log.Fatalf("[server] listen: %v", err)
	}
	log.Printf("[server] listening on %s with %d station(s)", ln.Addr(), len(paths))

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	shutdown := func() { once.Do(cancel) }

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("[server] signal received, shutting down")
		shutdown()
	}()

	disp := dispatcher.New(reg, nil)
	sched := broadcast.New(reg)
	repl := admin.New(reg, os.Stdin, os.Stdout, shutdown)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := disp.Serve(ctx, ln); err != nil {
			log.Printf("[server] dispatcher: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		repl.Run(ctx)
	}()

	<-ctx.Done()
	_ = ln.Close()
	wg.Wait()
	log.Printf("[server] stopped")
}
