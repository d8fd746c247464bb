package video

const (
	TrackTypeVideo = "video"
	TrackTypeAudio = "audio"
)

type VideoTrack struct {
	Width       int64
	Height      int64
	FPS         float64
	PixelFormat string
}

type AudioTrack struct {
	Channels   int
	SampleRate int
}

type InputTrack struct {
	Type    string
	Codec   string
	Bitrate int64

	VideoTrack
	AudioTrack
}

// InputVideo is the probed shape of a source file: container, tracks,
// duration and size. The preprocessing policy decides off these numbers.
type InputVideo struct {
	Format    string
	Tracks    []InputTrack
	Duration  float64
	SizeBytes int64
}

func (i InputVideo) VideoTrack() (InputTrack, bool) {
	return i.track(TrackTypeVideo)
}

func (i InputVideo) AudioTrack() (InputTrack, bool) {
	return i.track(TrackTypeAudio)
}

func (i InputVideo) track(kind string) (InputTrack, bool) {
	for _, t := range i.Tracks {
		if t.Type == kind {
			return t, true
		}
	}
	return InputTrack{}, false
}
