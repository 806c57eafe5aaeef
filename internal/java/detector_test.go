package java

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		version string
		major   int
		wantErr bool
	}{
		{
			name:    "modern openjdk",
			output:  "openjdk version \"21.0.2\" 2024-01-16\nOpenJDK Runtime Environment Temurin-21.0.2+13",
			version: "21.0.2",
			major:   21,
		},
		{
			name:    "modern oracle",
			output:  "java version \"17.0.9\" 2023-10-17 LTS",
			version: "17.0.9",
			major:   17,
		},
		{
			name:    "legacy numbering",
			output:  "java version \"1.8.0_392\"\nJava(TM) SE Runtime Environment",
			version: "1.8.0_392",
			major:   8,
		},
		{
			name:    "bare major",
			output:  "openjdk version \"21\" 2023-09-19",
			version: "21",
			major:   21,
		},
		{
			name:    "garbage",
			output:  "command not found",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, major, err := ParseVersion(tt.output)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", version)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if version != tt.version {
				t.Errorf("version = %s, want %s", version, tt.version)
			}
			if major != tt.major {
				t.Errorf("major = %d, want %d", major, tt.major)
			}
		})
	}
}

func TestCandidatesPreferConfiguredPath(t *testing.T) {
	list := candidates("/custom/java")
	if len(list) == 0 || list[0] != "/custom/java" {
		t.Fatalf("configured path not first: %v", list)
	}
}
