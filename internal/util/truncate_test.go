package util

import "testing"

func TestTruncateLog_ShortString(t *testing.T) {
	input := "refresh rejected"
	result := TruncateLog(input, DefaultLogMaxLen)
	if result != input {
		t.Errorf("TruncateLog() should not truncate short strings, got %q", result)
	}
}

func TestTruncateLog_ExactLimit(t *testing.T) {
	input := "12345678901234567890" // 20 chars
	result := TruncateLog(input, 20)
	if result != input {
		t.Errorf("TruncateLog() should not truncate at exact limit, got %q", result)
	}
}

func TestTruncateLog_LongString(t *testing.T) {
	input := "1234567890abcdefghij" // 20 chars
	result := TruncateLog(input, 10)
	if result != "1234567890... [truncated, 20 bytes total]" {
		t.Errorf("TruncateLog() = %q", result)
	}
}

func TestTruncateLog_EmptyString(t *testing.T) {
	result := TruncateLog("", 10)
	if result != "" {
		t.Errorf("TruncateLog() should return empty for empty input, got %q", result)
	}
}
