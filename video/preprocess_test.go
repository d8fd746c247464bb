package video

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sourceVideo(sizeMB int64, height int64, bitrateKbps int64, codec string) InputVideo {
	return InputVideo{
		Duration:  3600,
		SizeBytes: sizeMB * 1024 * 1024,
		Tracks: []InputTrack{{
			Type:    TrackTypeVideo,
			Codec:   codec,
			Bitrate: bitrateKbps * 1000,
			VideoTrack: VideoTrack{
				Width:  1280,
				Height: height,
			},
		}},
	}
}

func TestNeedsTranscode(t *testing.T) {
	tests := []struct {
		name string
		iv   InputVideo
		want bool
	}{
		{"compliant source", sourceVideo(300, 720, 2000, "h264"), false},
		{"too large", sourceVideo(401, 720, 2000, "h264"), true},
		{"too tall", sourceVideo(300, 1080, 2000, "h264"), true},
		{"bitrate too high", sourceVideo(300, 720, 2600, "h264"), true},
		{"wrong codec", sourceVideo(300, 720, 2000, "hevc"), true},
		{"codec case insensitive", sourceVideo(300, 720, 2000, "H264"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NeedsTranscode(tt.iv))
		})
	}
}

func TestTargetBitrateKbps(t *testing.T) {
	// 400MB over 2h is ~455kbps, clamped to the floor of each ladder rung
	require.Equal(t, 2000, TargetBitrateKbps(7200, 1080))
	require.Equal(t, 1200, TargetBitrateKbps(7200, 720))
	require.Equal(t, 800, TargetBitrateKbps(7200, 480))

	// a 10 minute source would blow past the ceiling
	require.Equal(t, 4000, TargetBitrateKbps(600, 1080))
	require.Equal(t, 2500, TargetBitrateKbps(600, 720))
	require.Equal(t, 1800, TargetBitrateKbps(600, 480))

	// mid-length sources land inside the range
	kbps := TargetBitrateKbps(1200, 1080)
	require.GreaterOrEqual(t, kbps, 2000)
	require.LessOrEqual(t, kbps, 4000)
}

func TestTranscodeTimeout(t *testing.T) {
	require.Equal(t, 900*time.Second, TranscodeTimeout(60))
	require.Equal(t, 2*1800*time.Second+600*time.Second, TranscodeTimeout(1800))
	// a one hour source would want 7800s but the ceiling wins
	require.Equal(t, 7200*time.Second, TranscodeTimeout(3600))
	require.Equal(t, 7200*time.Second, TranscodeTimeout(100000))
}

func TestTranscodeFilter(t *testing.T) {
	require.Contains(t, transcodeFilter(1080), "scale=1280:720")
	require.Contains(t, transcodeFilter(2160), "scale=1280:720")

	// sources at or below 720p are never upscaled
	require.Empty(t, transcodeFilter(720))
	require.Empty(t, transcodeFilter(480))
}

func TestLastOutTime(t *testing.T) {
	progressPath := filepath.Join(t.TempDir(), "encode.progress")
	content := "frame=100\nout_time_ms=1500000\nprogress=continue\n" +
		"frame=200\nout_time_ms=3250000\nprogress=continue\n"
	require.NoError(t, os.WriteFile(progressPath, []byte(content), 0644))
	require.InDelta(t, 3.25, lastOutTime(progressPath), 1e-9)

	require.Zero(t, lastOutTime(filepath.Join(t.TempDir(), "missing")))
}
