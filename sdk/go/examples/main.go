// Command examples drives a running bridge daemon: it registers a callback
// listener, fetches the summary data of one worksheet and prints it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"VizBridge/sdk/go/vizbridge"
)

func main() {
	daemon := flag.String("daemon", "http://localhost:8080", "bridge daemon base URL")
	worksheet := flag.String("worksheet", "A", "worksheet to read")
	flag.Parse()

	client, err := vizbridge.NewClient(*daemon, nil)
	if err != nil {
		log.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	go http.Serve(ln, client.CallbackHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := client.Init(ctx, "http://"+ln.Addr().String()+"/callback")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("session:", session)

	var data map[string]any
	found, err := client.GetData(ctx,
		map[string]string{"worksheet": *worksheet, "source": "summary"},
		map[string]any{"maxRows": 10},
		&data)
	if err != nil {
		log.Fatal(err)
	}
	if !found {
		fmt.Printf("worksheet %q not found\n", *worksheet)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}
