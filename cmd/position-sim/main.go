package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type positionPayload struct {
	UniqueID   string         `json:"uniqueId"`
	Protocol   string         `json:"protocol"`
	FixTime    string         `json:"fixTime"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Speed      float64        `json:"speed"`
	Course     float64        `json:"course"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	uniqueID := flag.String("unique-id", "sim-tracker-1", "Device unique identifier")
	latitude := flag.Float64("lat", 52.2297, "Starting latitude")
	longitude := flag.Float64("lon", 21.0122, "Starting longitude")
	speed := flag.Float64("speed", 27, "Cruise speed in knots")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published fixes")
	ignition := flag.Bool("ignition", true, "Report ignition as on")

	flag.Parse()

	clientID := fmt.Sprintf("%s-simulator-%d", *uniqueID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	lat, lon := *latitude, *longitude
	course := rand.Float64() * 360

	publish := func() {
		// Wander roughly along the current course with a little jitter.
		lat += (rand.Float64() - 0.5) * 0.002
		lon += (rand.Float64() - 0.5) * 0.002
		course += (rand.Float64() - 0.5) * 20
		if course < 0 {
			course += 360
		}
		if course >= 360 {
			course -= 360
		}

		payload := positionPayload{
			UniqueID:  *uniqueID,
			Protocol:  "sim",
			FixTime:   time.Now().UTC().Format(time.RFC3339Nano),
			Latitude:  lat,
			Longitude: lon,
			Speed:     *speed + (rand.Float64()-0.5)*4,
			Course:    course,
			Attributes: map[string]any{
				"ignition":   *ignition,
				"satellites": 8 + rand.Intn(8),
			},
		}

		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		topic := fmt.Sprintf("positions/%s", *uniqueID)
		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s lat=%.6f lon=%.6f speed=%.1f", topic, lat, lon, payload.Speed)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}
