package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/guard"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("guardctl - Configuration tool for guard")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  guardctl convert <input> <output>                    - Convert between formats")
	fmt.Println("  guardctl validate <file>                             - Validate configuration")
	fmt.Println("  guardctl stats <file>                                - Show configuration statistics")
	fmt.Println("  guardctl check <file> <subject> <resource> <action>  - Evaluate one request against a config")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: guardctl convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: guardctl validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:   %d\n", cfg.Version)
	fmt.Printf("  Roles:     %d\n", len(cfg.Roles))
	fmt.Printf("  Subjects:  %d\n", len(cfg.Subjects))
	fmt.Printf("  Resources: %d\n", len(cfg.Resources))
	fmt.Printf("  Policies:  %d\n", len(cfg.Policies))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: guardctl stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Roles:     %d\n", len(cfg.Roles))
	fmt.Printf("  Subjects:  %d\n", len(cfg.Subjects))
	fmt.Printf("  Resources: %d\n", len(cfg.Resources))
	fmt.Printf("  Policies:  %d\n", len(cfg.Policies))
	fmt.Println()

	if len(cfg.Policies) > 0 {
		permitCount := 0
		denyCount := 0
		conditioned := 0
		for _, p := range cfg.Policies {
			if p.Effect == guard.EffectPermit {
				permitCount++
			} else {
				denyCount++
			}
			if p.Condition != "" {
				conditioned++
			}
		}
		fmt.Println("Policy Details:")
		fmt.Printf("  Permit policies: %d\n", permitCount)
		fmt.Printf("  Deny policies:   %d\n", denyCount)
		fmt.Printf("  With condition:  %d\n", conditioned)
		fmt.Println()
	}

	if len(cfg.Roles) > 0 {
		totalPerms := 0
		inherited := 0
		for _, r := range cfg.Roles {
			totalPerms += len(r.Permissions)
			inherited += len(r.Parents)
		}
		fmt.Println("Role Details:")
		fmt.Printf("  Total permissions: %d\n", totalPerms)
		fmt.Printf("  Avg per role:      %.1f\n", float64(totalPerms)/float64(len(cfg.Roles)))
		fmt.Printf("  Parent links:      %d\n", inherited)
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL: %dms\n", cfg.Engine.DecisionCacheTTL)
	fmt.Printf("  Risk threshold:     %.2f\n", cfg.Engine.RiskThreshold)
	fmt.Printf("  Risk fail mode:     %s\n", cfg.Engine.RiskFailMode)
	fmt.Printf("  Audit buffer:       %d\n", cfg.Engine.AuditBuffer)
}

func handleCheck() {
	if len(os.Args) < 6 {
		fmt.Println("Usage: guardctl check <file> <subject> <resource> <action>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := guard.NewEngine(
		guard.NewMemoryRoleStore(),
		guard.NewMemorySubjectStore(),
		guard.NewMemoryResourceStore(),
		guard.NewMemoryPolicyStore(),
		guard.NewMemoryAuditStore(),
	)
	if err != nil {
		fmt.Printf("Error creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	dec, err := engine.Explain(ctx, os.Args[3], os.Args[4], guard.Action(os.Args[5]), nil)
	if err != nil {
		fmt.Printf("Error evaluating request: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Decision:   %s\n", dec.Decision)
	fmt.Printf("Reason:     %s\n", dec.Reason)
	fmt.Printf("Confidence: %.2f\n", dec.Confidence)
	if len(dec.MatchedPolicyIDs) > 0 {
		fmt.Printf("Policies:   %s\n", strings.Join(dec.MatchedPolicyIDs, ", "))
	}
	if len(dec.MatchedPermissions) > 0 {
		fmt.Printf("Permissions: %s\n", strings.Join(dec.MatchedPermissions, ", "))
	}
	for _, w := range dec.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	fmt.Println("Trace:")
	for _, line := range dec.Trace {
		fmt.Printf("  %s\n", line)
	}
}

func loadConfig(filename string) (*guard.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	loader := guard.NewConfigLoader()

	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *guard.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
