// Command sstash-cli is a minimal line-oriented client: it reads one
// command per line from stdin, frames its whitespace-separated fields as
// wire tokens exactly as typed (verb, positional args, opt-arg count, then
// that many key/value pairs), and prints the reply.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"sstash/internal/wire"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: sstash-cli <ip> <port>")
		os.Exit(1)
	}
	addr := net.JoinHostPort(os.Args[1], os.Args[2])

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(2)
	}
	defer conn.Close()

	var dec wire.Decoder
	readBuf := make([]byte, 4096)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		var frame []byte
		for _, f := range fields {
			frame = append(frame, wire.EncodeToken([]byte(f))...)
		}
		if _, err := conn.Write(frame); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(2)
		}

		reply, err := readReply(conn, &dec, readBuf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(2)
		}
		printReply(reply)
	}
}

func readReply(conn net.Conn, dec *wire.Decoder, buf []byte) (wire.Reply, error) {
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			toks, derr := dec.Decode()
			if derr != nil {
				return wire.Reply{}, derr
			}
			if len(toks) > 0 {
				return wire.DecodeReply(toks[0])
			}
		}
		if err != nil {
			return wire.Reply{}, err
		}
	}
}

func printReply(r wire.Reply) {
	switch r.Kind {
	case wire.ReplyOK:
		fmt.Println("OK")
	case wire.ReplyValue:
		fmt.Printf("VALUE %s\n", r.Payload)
	case wire.ReplyError:
		fmt.Printf("ERROR %s\n", r.Payload)
	}
}
