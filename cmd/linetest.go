// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/spf13/cobra"
)

var lineTestDuration int

var lineTestCmd = &cobra.Command{
	Use:   "line_test",
	Short: "Test raw connection stability",
	Long: `Connect and print raw bytes as they arrive, without framing them.

Useful for checking baud rate, wiring and WebSocket stability before looking
at frames. Every chunk is shown in hex; the summary counts how many frames the
bytes would have decoded to.

Exit codes:
  0 - Test completed normally
  1 - Connection failed during the test
  2 - Connection error`,
	RunE: runLineTest,
}

func init() {
	rootCmd.AddCommand(lineTestCmd)
	lineTestCmd.Flags().IntVar(&lineTestDuration, "duration", 30, "Test duration in seconds")
}

func runLineTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Raw Line Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", lineTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	start := time.Now()
	endTime := start.Add(time.Duration(lineTestDuration) * time.Second)
	decoder := cmri.NewDecoder()
	stats := cmri.NewStatistics()

	fmt.Printf("Listening for data...\n\n")

	summary := func() {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %s\n", formatElapsed(time.Since(start)))
		fmt.Print(stats.String())
	}

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			stats.AddBytes(len(data))
			for _, b := range data {
				rx, _ := decoder.Process(b)
				stats.Update(rx, decoder.LastDrop(), decoder.Message())
			}
			fmt.Printf("[%s] Received %d bytes: %s\n",
				time.Now().Format("15:04:05.000"), len(data), cmri.FormatRaw(data))

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			summary()
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-time.After(1 * time.Second):
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	summary()
	fmt.Printf("Result: PASSED (connection stable)\n")
	return nil
}
