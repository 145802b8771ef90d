// Command narrator-client watches a simulation server and narrates every
// state change, either with canned lines (dev mode) or with Gemini.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/template"
	"time"

	"github.com/caarlos0/env/v11"
	"google.golang.org/genai"

	"simhost/control"
	"simhost/shared"
)

//go:embed prompt_template.txt
var promptTemplate string

var promptTmpl = template.Must(template.New("prompt").Parse(promptTemplate))

const geminiModel = "gemini-2.0-flash"

// PromptData holds the data for the prompt template
type PromptData struct {
	PreviousState string
	NewState      string
	CurrentStep   int
	TotalSteps    int
	Progress      int
}

// Config holds the application configuration
type Config struct {
	GeminiAPIKey string `json:"gemini_api_key" env:"GEMINI_API_KEY"`
}

// LoadConfig reads the config file at configPath, if any, then lets the
// environment fill in or override the API key.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Printf("Config file not found at %s, checking environment variables", configPath)
	} else {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer file.Close()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if config.GeminiAPIKey == "" {
		log.Println("WARNING: No API key found in config file or environment variables")
	}
	return config, nil
}

// GetDefaultConfigPath returns the default path for the config file
func GetDefaultConfigPath() string {
	execPath, err := os.Executable()
	if err != nil {
		log.Printf("Warning: Could not determine executable path: %v", err)
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}

// Narrator turns a state change into a sentence
type Narrator interface {
	Narrate(ctx context.Context, rec shared.StateChangeRecord) (string, error)
}

// devNarrator answers with fixed lines so no API key is needed
type devNarrator struct{}

func (devNarrator) Narrate(_ context.Context, rec shared.StateChangeRecord) (string, error) {
	switch rec.NewState {
	case shared.StateRunning:
		return fmt.Sprintf("The clock starts ticking at step %d of %d.", rec.CurrentStep, rec.TotalSteps), nil
	case shared.StatePaused:
		return fmt.Sprintf("Everything holds still at step %d.", rec.CurrentStep), nil
	case shared.StateCompleted:
		return fmt.Sprintf("All %d steps are done; the story ends.", rec.TotalSteps), nil
	case shared.StateReady:
		return "The world is wiped clean and waits.", nil
	default:
		return "Something happened.", nil
	}
}

// contentGenerator is the slice of the genai Models API used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// geminiNarrator asks Gemini for a line per state change
type geminiNarrator struct {
	models      contentGenerator
	model       string
	temperature float32
}

func newGeminiNarrator(ctx context.Context, apiKey string) (*geminiNarrator, error) {
	if apiKey == "" {
		return nil, errors.New("no Gemini API key configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &geminiNarrator{models: client.Models, model: geminiModel, temperature: 1.0}, nil
}

func (g *geminiNarrator) Narrate(ctx context.Context, rec shared.StateChangeRecord) (string, error) {
	prompt, err := loadPromptTemplate(rec)
	if err != nil {
		return "", err
	}
	temperature := g.temperature
	result, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return strings.TrimSpace(result.Text()), nil
}

func loadPromptTemplate(rec shared.StateChangeRecord) (string, error) {
	data := PromptData{
		PreviousState: rec.PreviousState.String(),
		NewState:      rec.NewState.String(),
		CurrentStep:   rec.CurrentStep,
		TotalSteps:    rec.TotalSteps,
	}
	if rec.TotalSteps > 0 {
		data.Progress = rec.CurrentStep * 100 / rec.TotalSteps
	}

	var prompt bytes.Buffer
	if err := promptTmpl.Execute(&prompt, data); err != nil {
		return "", fmt.Errorf("execute prompt template: %w", err)
	}
	return prompt.String(), nil
}

// NarratorClient follows the Watch stream of a simulation server
type NarratorClient struct {
	ServerURL      string
	Narrator       Narrator
	reconnectDelay time.Duration
}

// Run watches the server until ctx is done, reconnecting after failures.
func (n *NarratorClient) Run(ctx context.Context) error {
	for {
		err := n.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("Connection error: %v. Reconnecting in %v", err, n.reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(n.reconnectDelay):
		}
	}
}

func (n *NarratorClient) watchOnce(ctx context.Context) error {
	conn, err := control.Dial(n.ServerURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("Watching simulation server at %s", n.ServerURL)
	return control.NewClient(conn).Watch(ctx, func(f shared.Frame) error {
		return n.handleFrame(ctx, f)
	})
}

func (n *NarratorClient) handleFrame(ctx context.Context, f shared.Frame) error {
	switch f.Type {
	case shared.FrameHello:
		if f.Status != nil {
			log.Printf("Connected: simulation is %s at step %d of %d", f.Status.State, f.Status.Step, f.Status.TotalSteps)
		}
	case shared.FrameStateChanged:
		if f.Record == nil {
			return nil
		}
		line, err := n.Narrator.Narrate(ctx, *f.Record)
		if err != nil {
			log.Printf("Narration failed: %v", err)
			return nil
		}
		log.Printf("[%s -> %s] %s", f.Record.PreviousState, f.Record.NewState, line)
	}
	return nil
}

func main() {
	devModePtr := flag.Bool("dev", true, "Run in development mode")
	serverURLPtr := flag.String("server", "simulation-server-service:9090", "Simulation server URL (gRPC)")
	configPtr := flag.String("config", "", "Path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var narrator Narrator = devNarrator{}
	if *devModePtr {
		log.Println("Running in development mode")
	} else {
		path := *configPtr
		if path == "" {
			path = GetDefaultConfigPath()
		}
		config, err := LoadConfig(path)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		gemini, err := newGeminiNarrator(ctx, config.GeminiAPIKey)
		if err != nil {
			log.Fatalf("FATAL: Running in production mode: %v. Please set GEMINI_API_KEY environment variable or add it to config.json", err)
		}
		narrator = gemini
	}

	client := &NarratorClient{
		ServerURL:      *serverURLPtr,
		Narrator:       narrator,
		reconnectDelay: 5 * time.Second,
	}
	if err := client.Run(ctx); err != nil {
		log.Fatalf("Narrator stopped: %v", err)
	}
	log.Println("Narrator stopped.")
}
