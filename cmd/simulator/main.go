package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"whisper-link/simulator"
)

func main() {
	config := simulator.SimConfig{}
	flag.IntVar(&config.NumUsers, "users", 10, "number of simulated users")
	flag.DurationVar(&config.SimulationTime, "duration", 2*time.Minute, "how long to run")
	flag.Float64Var(&config.MessageFrequency, "rate", 6, "messages per user per minute")
	flag.Float64Var(&config.ReplyPercentage, "replies", 0.2, "share of sends that reply to the latest message")
	flag.Float64Var(&config.EditPercentage, "edits", 0.05, "share of actions that edit an own message")
	flag.Float64Var(&config.DeletePercentage, "deletes", 0.02, "share of actions that delete an own message")
	flag.Float64Var(&config.DisconnectRate, "disconnect", 0.01, "per-second chance a connected user drops")
	flag.Float64Var(&config.ReconnectRate, "reconnect", 0.05, "per-second chance a dropped user returns")
	flag.Float64Var(&config.ZipfS, "zipf", 1.07, "Zipf parameter for peer popularity")
	flag.StringVar(&config.EngineURL, "url", "http://localhost:8080", "server base URL")
	flag.Parse()

	sim := simulator.NewEnhancedSimulator(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.SimulationTime)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log.Printf("Starting simulation with configuration:")
	log.Printf("- Engine URL: %s", config.EngineURL)
	log.Printf("- Number of users: %d", config.NumUsers)
	log.Printf("- Simulation time: %v", config.SimulationTime)
	log.Printf("- Message frequency: %.2f messages/user/minute", config.MessageFrequency)
	log.Printf("- Reply/edit/delete: %.0f%%/%.0f%%/%.0f%%", config.ReplyPercentage*100, config.EditPercentage*100, config.DeletePercentage*100)
	log.Printf("- Disconnect rate: %.2f", config.DisconnectRate)
	log.Printf("- Reconnect rate: %.2f", config.ReconnectRate)
	log.Printf("- Zipf parameter: %.2f", config.ZipfS)

	if err := sim.Run(ctx); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	metrics := sim.GetMetrics()
	log.Printf("Simulation completed. Final metrics:")
	log.Printf("- Total users: %d", metrics.TotalUsers)
	log.Printf("- Active users at end: %d", metrics.ActiveUsers)
	log.Printf("- Messages: %d (Replies: %d)", metrics.TotalMessages, metrics.TotalReplies)
	log.Printf("- Edits: %d, Deletes: %d", metrics.TotalEdits, metrics.TotalDeletes)
	log.Printf("- Read receipts observed: %d", metrics.ReadReceipts)
	log.Printf("- Average latency: %v", metrics.AverageLatency)
	log.Printf("- Error count: %d", metrics.ErrorCount)
}
