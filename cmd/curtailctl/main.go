package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltmesh/curtaild/internal/rpc"
)

var (
	rpcEndpoint = "http://127.0.0.1:8667"
	apiKey      = ""
	httpClient  = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "curtailctl",
		Short: "Curtaild CLI for reward settlement operations",
		Long:  "Command-line interface for funding, allocating and finalizing curtailment event rewards",
	}

	rootCmd.PersistentFlags().StringVar(&rpcEndpoint, "rpc", "http://127.0.0.1:8667", "RPC endpoint URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authenticated endpoints")

	rootCmd.AddCommand(
		fundCommand(),
		allocateCommand(),
		finalizeCommand(),
		statusCommand(),
		holdCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fundCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fund <event-id> <operator-address> <amount>",
		Short: "Fund an event's reward pool",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %v", args[2], err)
			}

			req := rpc.Request{
				ID:     1,
				Method: "settle.fundPool",
				Params: rpc.FundPoolParams{
					EventID:         args[0],
					OperatorAddress: args[1],
					TotalAmount:     amount,
				},
			}

			var resp struct {
				Result *rpc.FundPoolResult `json:"result"`
				Error  *rpc.RPCError       `json:"error"`
			}
			if err := makeRPCCall(req, &resp); err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("RPC error: %s", resp.Error.Message)
			}

			fmt.Printf("Funding hold created: %s\n", resp.Result.HoldID)
			if resp.Result.QRURL != "" {
				fmt.Printf("Sign via QR: %s\n", resp.Result.QRURL)
			}
			if resp.Result.DeepLink != "" {
				fmt.Printf("Or open:     %s\n", resp.Result.DeepLink)
			}
			return nil
		},
	}
}

func allocateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "allocate <event-id> <participant-id>...",
		Short: "Allocate potential rewards to participants",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rpc.Request{
				ID:     1,
				Method: "settle.allocate",
				Params: rpc.AllocateParams{
					EventID:        args[0],
					ParticipantIDs: args[1:],
				},
			}

			var resp struct {
				Result *rpc.AllocateResult `json:"result"`
				Error  *rpc.RPCError       `json:"error"`
			}
			if err := makeRPCCall(req, &resp); err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("RPC error: %s", resp.Error.Message)
			}

			fmt.Printf("Allocated %d participant(s):\n", len(resp.Result.Allocations))
			for _, alloc := range resp.Result.Allocations {
				fmt.Printf("  %s  potential=%.2f  status=%s\n",
					alloc.ParticipantID, alloc.PotentialAmount, alloc.Status)
			}
			return nil
		},
	}
}

func finalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <event-id>",
		Short: "Issue reward payments for verified participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rpc.Request{
				ID:     1,
				Method: "settle.finalize",
				Params: rpc.FinalizeParams{EventID: args[0]},
			}

			var resp struct {
				Result *rpc.FinalizeResult `json:"result"`
				Error  *rpc.RPCError       `json:"error"`
			}
			if err := makeRPCCall(req, &resp); err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("RPC error: %s", resp.Error.Message)
			}

			fmt.Printf("Issued %d payment(s):\n", len(resp.Result.Payments))
			for _, payment := range resp.Result.Payments {
				fmt.Printf("  %s  amount=%.2f  status=%s  signing=%s\n",
					payment.ParticipantID, payment.Amount, payment.Status, payment.SigningID)
			}
			return nil
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <event-id>",
		Short: "Show an event's settlement status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rpc.Request{
				ID:     1,
				Method: "settle.status",
				Params: rpc.StatusParams{EventID: args[0]},
			}

			var resp struct {
				Result *rpc.StatusResult `json:"result"`
				Error  *rpc.RPCError     `json:"error"`
			}
			if err := makeRPCCall(req, &resp); err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("RPC error: %s", resp.Error.Message)
			}

			event := resp.Result.Event
			fmt.Printf("Event:   %s (%s)\n", event.Name, event.ID)
			fmt.Printf("Status:  %s\n", event.Status)
			fmt.Printf("Window:  %s to %s\n",
				event.StartTime.Format(time.RFC3339), event.EndTime.Format(time.RFC3339))
			fmt.Printf("Rate:    %.4f per kWh\n", event.RewardPerKwh)

			fmt.Printf("Holds (%d):\n", len(resp.Result.Holds))
			for _, hold := range resp.Result.Holds {
				fmt.Printf("  %s  kind=%s  amount=%.2f  state=%s\n",
					hold.ID, hold.Kind, hold.Amount, hold.State)
			}

			fmt.Printf("Allocations (%d):\n", len(resp.Result.Allocations))
			for _, alloc := range resp.Result.Allocations {
				fmt.Printf("  %s  potential=%.2f  actual=%.2f  status=%s\n",
					alloc.ParticipantID, alloc.PotentialAmount, alloc.ActualAmount, alloc.Status)
			}
			return nil
		},
	}
}

func holdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hold <hold-id>",
		Short: "Show one conditional hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rpc.Request{
				ID:     1,
				Method: "settle.hold",
				Params: rpc.HoldParams{HoldID: args[0]},
			}

			var resp struct {
				Result json.RawMessage `json:"result"`
				Error  *rpc.RPCError   `json:"error"`
			}
			if err := makeRPCCall(req, &resp); err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("RPC error: %s", resp.Error.Message)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, resp.Result, "", "  "); err != nil {
				return fmt.Errorf("failed to format response: %v", err)
			}
			fmt.Println(pretty.String())
			return nil
		},
	}
}

func makeRPCCall(request rpc.Request, response interface{}) error {
	reqBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", rpcEndpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("X-API-Key", apiKey)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}

	return nil
}
