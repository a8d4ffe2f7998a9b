package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"blitz/internal/common"
	blitzNet "blitz/internal/net"

	"github.com/shopspring/decimal"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the matching engine gateway")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'depth']")

	// Order Parameters
	security := flag.String("security", "AAPL", "Security id")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	priceStr := flag.String("price", "100", "Limit price, as a decimal")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Cancel Parameters
	orderID := flag.String("order", "", "Id of the order to cancel")

	// Depth Parameters
	levels := flag.Uint("levels", 5, "Depth levels per side")

	flag.Parse()

	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn)

	var side common.Side
	if err := side.UnmarshalText([]byte(*sideStr)); err != nil {
		log.Fatalf("Invalid side: %v", err)
	}
	var orderType common.OrderType
	if err := orderType.UnmarshalText([]byte(*typeStr)); err != nil {
		log.Fatalf("Invalid type: %v", err)
	}

	switch strings.ToLower(*action) {
	case "place":
		price, err := decimal.NewFromString(*priceStr)
		if err != nil {
			log.Fatalf("Invalid price %q: %v", *priceStr, err)
		}
		for _, q := range parseQuantities(*qtyStr) {
			err := send(conn, blitzNet.NewOrderMessage{
				OrderType:  orderType,
				Side:       side,
				Price:      price,
				Quantity:   q,
				SecurityID: *security,
				Username:   *owner,
			})
			if err != nil {
				log.Printf("Failed to place order (Qty: %d): %v", q, err)
			} else {
				fmt.Printf("-> Sent %s %s Order: %s %d @ %s\n", orderType, side, *security, q, price)
			}
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == "" {
			log.Fatal("Error: -order is required for cancellation")
		}
		if err := send(conn, blitzNet.CancelOrderMessage{SecurityID: *security, OrderID: *orderID}); err != nil {
			log.Printf("Failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> Sent Cancel Request for %s\n", *orderID)
		}

	case "depth":
		if err := send(conn, blitzNet.DepthMessage{SecurityID: *security, Levels: uint16(*levels)}); err != nil {
			log.Printf("Failed to send depth request: %v", err)
		} else {
			fmt.Println("-> Sent Depth Request")
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	// Keep the client alive to receive reports, heartbeating so the
	// gateway does not drop the idle connection.
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	for range time.Tick(10 * time.Second) {
		if err := blitzNet.WriteFrame(conn, blitzNet.HeartbeatMessage()); err != nil {
			log.Fatalf("Heartbeat failed: %v", err)
		}
	}
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

func send(conn net.Conn, msg interface{ Serialize() ([]byte, error) }) error {
	raw, err := msg.Serialize()
	if err != nil {
		return err
	}
	return blitzNet.WriteFrame(conn, raw)
}

// readReports continuously reads and prints reports from the server
func readReports(conn net.Conn) {
	for {
		frame, err := blitzNet.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		r, err := blitzNet.ParseReport(frame)
		if err != nil {
			log.Printf("Error reading report: %v", err)
			continue
		}

		switch r.MessageType {
		case blitzNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] %s\n", r.Err)
		case blitzNet.RejectionReport:
			fmt.Printf("\n[REJECTED] %s %s | Qty: %d | %s | ID: %s\n", r.Side, r.SecurityID, r.Quantity, r.Err, r.OrderID)
		case blitzNet.OrderAck:
			fmt.Printf("\n[ACCEPTED] %s %s | Qty: %d | Price: %s | ID: %s\n", r.Side, r.SecurityID, r.Quantity, r.Price, r.OrderID)
		case blitzNet.ExecutionReport:
			fmt.Printf("\n[EXECUTION] Match: %s %s | Qty: %d | Price: %s | vs: %s | ID: %s\n",
				r.Side, r.SecurityID, r.Quantity, r.Price, r.Counterparty, r.OrderID)
		case blitzNet.CancelAck:
			if r.Err != "" {
				fmt.Printf("\n[CANCEL FAILED] %s: %s\n", r.OrderID, r.Err)
			} else {
				fmt.Printf("\n[CANCELLED] %s\n", r.OrderID)
			}
		case blitzNet.DepthReport:
			fmt.Printf("\n[DEPTH] %s\n", r.SecurityID)
			for _, l := range r.Asks {
				fmt.Printf("  ASK %s x %d\n", l.Price, l.Quantity)
			}
			for _, l := range r.Bids {
				fmt.Printf("  BID %s x %d\n", l.Price, l.Quantity)
			}
		}
	}
}
