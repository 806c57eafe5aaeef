package java

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no usable java binary can be located
var ErrNotFound = errors.New("no java runtime found")

// Runtime describes a discovered java installation
type Runtime struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Major   int    `json:"major"`
}

// versionPattern matches the quoted version in `java -version` output,
// which is printed on stderr
var versionPattern = regexp.MustCompile(`version "([^"]+)"`)

// Discover locates a java runtime. An explicit configured path wins;
// otherwise JAVA_HOME, then PATH, then well-known install locations are
// probed in order.
func Discover(configuredPath string) (*Runtime, error) {
	for _, candidate := range candidates(configuredPath) {
		rt, err := probe(candidate)
		if err == nil {
			return rt, nil
		}
	}
	return nil, ErrNotFound
}

func candidates(configuredPath string) []string {
	var result []string

	if configuredPath != "" {
		result = append(result, configuredPath)
	}

	if home := os.Getenv("JAVA_HOME"); home != "" {
		result = append(result, filepath.Join(home, "bin", binaryName()))
	}

	if found, err := exec.LookPath(binaryName()); err == nil {
		result = append(result, found)
	}

	result = append(result, commonLocations()...)
	return result
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}

func commonLocations() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/usr/bin/java",
			"/Library/Java/JavaVirtualMachines/temurin-21.jdk/Contents/Home/bin/java",
			"/Library/Java/JavaVirtualMachines/temurin-17.jdk/Contents/Home/bin/java",
			"/opt/homebrew/opt/openjdk/bin/java",
		}
	case "windows":
		return []string{
			`C:\Program Files\Java\jdk-21\bin\java.exe`,
			`C:\Program Files\Java\jdk-17\bin\java.exe`,
			`C:\Program Files\Eclipse Adoptium\jdk-21\bin\java.exe`,
		}
	default:
		return []string{
			"/usr/bin/java",
			"/usr/lib/jvm/java-21-openjdk/bin/java",
			"/usr/lib/jvm/java-17-openjdk/bin/java",
			"/usr/lib/jvm/default-java/bin/java",
			"/opt/java/openjdk/bin/java",
		}
	}
}

// probe runs `java -version` and parses the reported version
func probe(path string) (*Runtime, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	output, err := exec.Command(path, "-version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s -version: %w", path, err)
	}

	version, major, err := ParseVersion(string(output))
	if err != nil {
		return nil, err
	}

	return &Runtime{Path: path, Version: version, Major: major}, nil
}

// ParseVersion extracts the version string and major release number
// from `java -version` output. Handles both legacy "1.8.0_392" and
// modern "21.0.2" numbering.
func ParseVersion(output string) (string, int, error) {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return "", 0, fmt.Errorf("unrecognized java version output: %s", strings.TrimSpace(output))
	}

	version := match[1]
	parts := strings.SplitN(version, ".", 3)

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", 0, fmt.Errorf("unparseable java version %q", version)
	}

	// Legacy numbering reports 1.x where x is the real major release
	if major == 1 && len(parts) > 1 {
		if legacy, err := strconv.Atoi(parts[1]); err == nil {
			major = legacy
		}
	}

	return version, major, nil
}
