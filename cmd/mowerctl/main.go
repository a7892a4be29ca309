package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	gateway := os.Getenv("MOWERCTL_GATEWAY_URL")
	if gateway == "" {
		gateway = "http://localhost:8080"
	}
	apiKey := os.Getenv("MOWERCTL_API_KEY")

	switch os.Args[1] {
	case "list":
		cmdList(gateway, apiKey)
	case "state":
		cmdState(gateway, apiKey)
	case "dispatch":
		cmdDispatch(gateway, apiKey)
	case "version":
		fmt.Printf("mowerctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mowerctl v` + version + `

Usage: mowerctl <command> [args]

Commands:
  list                         List provisioned devices
  state <device_id>            Show a device's last known state
  dispatch <device_id> <action>   Dispatch an action (start|stop|home|ackerror)
  version                      Print version
  help                         Show this help

Environment:
  MOWERCTL_GATEWAY_URL   Backend API URL (default: http://localhost:8080)
  MOWERCTL_API_KEY       Operator API key, sent as a bearer token`)
}

func cmdList(gateway, apiKey string) {
	resp, err := doRequest("GET", gateway+"/api/v1/devices", apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	var devices []map[string]any
	if err := json.Unmarshal(resp, &devices); err != nil {
		fmt.Fprintf(os.Stderr, "unexpected response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%-20s %-10s %s\n", "DEVICE", "PORT", "MODEL")
	for _, d := range devices {
		fmt.Printf("%-20v %-10v %v\n", d["DeviceID"], d["Port"], d["Model"])
	}
}

func cmdState(gateway, apiKey string) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: mowerctl state <device_id>")
		os.Exit(1)
	}
	deviceID := os.Args[2]
	resp, err := doRequest("GET", gateway+"/api/v1/devices/"+deviceID+"/state", apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	var result map[string]string
	json.Unmarshal(resp, &result)
	fmt.Printf("%s: %s\n", result["device_id"], result["state"])
}

func cmdDispatch(gateway, apiKey string) {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: mowerctl dispatch <device_id> <action>")
		os.Exit(1)
	}
	deviceID, action := os.Args[2], os.Args[3]
	resp, err := doRequest("POST", gateway+"/api/v1/devices/"+deviceID+"/actions/"+action, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}

func doRequest(method, url, apiKey string) ([]byte, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	return body, nil
}
