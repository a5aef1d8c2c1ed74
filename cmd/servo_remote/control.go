package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"

	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/controller"
)

// ListenControl serves the line-oriented control protocol on addr until ctx
// ends.
func (s *Server) ListenControl(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing control socket")
		ln.Close()
	}()
	for ctx.Err() == nil {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("failed to accept: %v", err)
			}
			continue
		}
		go func() {
			defer conn.Close()
			log.Printf("accepted connection from %v", conn.RemoteAddr())
			s.handleControl(ctx, conn, conn.RemoteAddr().String())
		}()
	}
	return nil
}

// handleControl reads commands until rw hits EOF. Two forms of command:
// a bare symbol ("u", "ul"), or "+\" followed by a command name and
// arguments. Every command is answered with RPRT 0 or RPRT -22.
func (s *Server) handleControl(ctx context.Context, rw io.ReadWriter, peer string) {
	c := s.c
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd string
		var args []string
		if strings.HasPrefix(line, `+\`) {
			parts := strings.Fields(line[2:])
			if len(parts) == 0 {
				fmt.Fprintf(rw, "RPRT -22\n")
				continue
			}
			cmd, args = parts[0], parts[1:]
			fmt.Fprintf(rw, "%s:\n", cmd)
		} else {
			cmd = line
		}
		log.Printf("%v command: %q args: %#v", peer, cmd, args)

		var err error
		switch sym := command.Symbol(cmd); {
		case sym == command.Center:
			err = c.Center(ctx)
		case sym.Primitive():
			err = c.Press(ctx, sym)
		case sym.Diagonal():
			err = c.Diagonal(ctx, sym)
		case cmd == "connect":
			var endpoint string
			if len(args) > 0 {
				endpoint = args[0]
			}
			var result <-chan error
			if result, err = c.Connect(ctx, endpoint); err == nil {
				err = <-result
			}
		case cmd == "disconnect":
			err = c.Disconnect(ctx)
		case cmd == "record":
			err = c.StartRecording(ctx)
		case cmd == "stop_record":
			var n int
			if n, err = c.StopRecording(ctx); err == nil {
				fmt.Fprintf(rw, "Recorded: %d\n", n)
			}
		case cmd == "save" && len(args) == 1:
			err = c.Save(ctx, args[0])
		case cmd == "play" && (len(args) == 1 || len(args) == 2 && args[1] == "loop"):
			err = c.Play(ctx, args[0], len(args) == 2)
		case cmd == "stop":
			err = c.StopPlayback(ctx)
		case cmd == "delete" && len(args) == 1:
			err = c.Delete(ctx, args[0])
		case cmd == "list":
			for _, name := range c.Recordings() {
				fmt.Fprintf(rw, "%s\n", name)
			}
		case cmd == "get_state":
			var snap controller.Snapshot
			if snap, err = c.Snapshot(ctx); err == nil {
				fmt.Fprintf(rw, "Connection: %s\nPlayback: %s\nRecording: %t\n", snap.Connection, snap.Playback, snap.Recording)
			}
		default:
			err = fmt.Errorf("unknown command %q", cmd)
		}
		rprt := 0
		if err != nil {
			log.Printf("%v %s: %v", peer, cmd, err)
			rprt = -22
		}
		fmt.Fprintf(rw, "RPRT %d\n", rprt)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", peer, err)
	}
}
