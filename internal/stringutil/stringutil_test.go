package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var caseConversionTests = []struct {
	pascalCase string
	snakeCase  string
}{
	{"ID", "id"},
	{"CreatedAt", "created_at"},
	{"CourseKey", "course_key"},
	{"DisplayName", "display_name"},
	{"QueueName", "queue_name"},
	{"Payload", "payload"},
	{"RunAfter", "run_after"},
	{"FailureDelay", "failure_delay"},
	{"AttemptsRemaining", "attempts_remaining"},
	{"ReservedAt", "reserved_at"},
	{"ReservedUntil", "reserved_until"},
	{"FinishedAt", "finished_at"},
	{"ErrorMessages", "error_messages"},
	{"VideoURLBase", "video_url_base"},
	{"LMSBase", "lms_base"},
	{"ApplicationDataPath", "application_data_path"},
	{"ÉcoleVideo", "école_video"},
}

func TestPascalToSnake(t *testing.T) {
	for _, tc := range caseConversionTests {
		t.Run(tc.pascalCase, func(t *testing.T) {
			a := assert.New(t)
			a.Equal(tc.snakeCase, PascalToSnake(tc.pascalCase))
		})
	}
}

func BenchmarkPascalToSnake(b *testing.B) {
	for _, tc := range caseConversionTests {
		b.Run(tc.pascalCase, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				PascalToSnake(tc.pascalCase)
			}
		})
	}
}

func TestPascalToTitle(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out string
	}{
		{"DisplayName", "Display Name"},
		{"CourseKey", "Course Key"},
		{"Title", "Title"},
		{"ÉcoleVideo", "École Video"},
		{"Run2024Key", "Run2024 Key"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.out, PascalToTitle(tc.in))
		})
	}
}

func TestLooksTrue(t *testing.T) {
	a := assert.New(t)

	for _, s := range []string{"true", "YES", "1", "on", "Enabled", " y "} {
		a.True(LooksTrue(s), s)
	}

	for _, s := range []string{"", "false", "0", "no", "maybe"} {
		a.False(LooksTrue(s), s)
	}
}
