package eula

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileName = "eula.txt"

// Accepted reports whether the license agreement has been accepted in
// the given server directory. A missing file means not accepted.
func Accepted(serverDir string) (bool, error) {
	file, err := os.Open(filepath.Join(serverDir, fileName))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read eula file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == "eula" {
			return strings.EqualFold(strings.TrimSpace(value), "true"), nil
		}
	}
	return false, scanner.Err()
}

// Accept writes an accepting eula file into the server directory
func Accept(serverDir string) error {
	if err := os.MkdirAll(serverDir, 0755); err != nil {
		return fmt.Errorf("failed to create server directory: %w", err)
	}
	content := "# Accepted via supervisor\neula=true\n"
	if err := os.WriteFile(filepath.Join(serverDir, fileName), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write eula file: %w", err)
	}
	return nil
}

// Decline writes a declining eula file, preserving the file so the
// server prints its usual prompt instead of regenerating it
func Decline(serverDir string) error {
	if err := os.MkdirAll(serverDir, 0755); err != nil {
		return fmt.Errorf("failed to create server directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(serverDir, fileName), []byte("eula=false\n"), 0644); err != nil {
		return fmt.Errorf("failed to write eula file: %w", err)
	}
	return nil
}
