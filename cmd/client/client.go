package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scopebridge/pkg/scpi"
	"github.com/scopebridge/pkg/waveform"
)

func main() {
	host := flag.String("host", "localhost", "Bridge host")
	controlPort := flag.Int("control", 5025, "Control plane port")
	dataPort := flag.Int("data", 5026, "Data plane port")
	frames := flag.Int("n", 10, "Frames to receive before stopping")
	window := flag.Uint64("window", 5, "Credit window to grant")
	single := flag.Bool("single", false, "Arm a single capture instead of continuous")
	cmds := flag.String("cmds", "", "Semicolon-separated commands to send before arming")
	monitor := flag.String("monitor", "", "Status server host:port; print /ws state updates instead of streaming")
	flag.Parse()

	if *monitor != "" {
		runMonitor(*monitor)
		return
	}

	ctl, err := scpi.Dial(fmt.Sprintf("%s:%d", *host, *controlPort), 2*time.Second)
	if err != nil {
		log.Fatal("dial control:", err)
	}
	defer ctl.Close()

	idn, err := ctl.Query("*IDN?")
	if err != nil {
		log.Fatal(err)
	}
	chans, err := ctl.Query("CHANS?")
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Connected to %s (%s channels)", idn, chans)

	for _, c := range strings.Split(*cmds, ";") {
		if c = strings.TrimSpace(c); c == "" {
			continue
		}
		if err := ctl.Write(c); err != nil {
			log.Fatal(err)
		}
	}

	dataConn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", *host, *dataPort), 2*time.Second)
	if err != nil {
		log.Fatal("dial data:", err)
	}
	defer dataConn.Close()
	if err := waveform.WriteAck(dataConn, 0, *window); err != nil {
		log.Fatal(err)
	}

	// The data plane does not carry the mode.
	digital := false
	if mode, err := ctl.Query("MODE?"); err == nil && mode == "digital" {
		digital = true
	}

	arm := "START"
	if *single {
		arm = "SINGLE"
		*frames = 1
	}
	if err := ctl.Write(arm); err != nil {
		log.Fatal(err)
	}

	for i := 0; i < *frames; i++ {
		dataConn.SetReadDeadline(time.Now().Add(10 * time.Second))
		f, err := waveform.ReadFrame(dataConn, digital)
		if err != nil {
			log.Fatalf("read frame: %v", err)
		}
		for _, ch := range f.Channels {
			if digital {
				log.Printf("frame %d ch%d: %d samples, period %d fs, first sample %d",
					f.Seq, ch.Index, len(ch.Samples), f.Period, ch.Cal.FirstSample)
			} else {
				log.Printf("frame %d ch%d: %d samples, period %d fs, scale %g offset %g phase %.3f clip %v",
					f.Seq, ch.Index, len(ch.Samples), f.Period, ch.Cal.Scale, ch.Cal.Offset, ch.Cal.TrigPhase, ch.Cal.Clipping)
			}
		}
		if err := waveform.WriteAck(dataConn, f.Seq, *window); err != nil {
			log.Fatalf("ack: %v", err)
		}
	}

	if err := ctl.Write("STOP"); err != nil {
		log.Printf("Warning: %v", err)
	}
}

func runMonitor(addr string) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	for {
		var msg map[string]interface{}
		if err := c.ReadJSON(&msg); err != nil {
			log.Println("read:", err)
			return
		}
		log.Printf("%v", msg["state"])
	}
}
