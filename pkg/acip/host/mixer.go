package host

import "github.com/google/uuid"

// Mixer is the external collaborator that turns one sender's raw media
// payload into per-destination output. ASCII rendering and Opus/PortAudio
// mixing themselves are out of scope; this interface is the
// only place the star-topology host calls into them.
type Mixer interface {
	// MixVideoFrame transcodes one IMAGE_FRAME payload from sender once;
	// the result is reused for every destination.
	MixVideoFrame(sender uuid.UUID, payload []byte) ([]byte, error)

	// MixAudioFor produces the audio mix destined for dest, given the
	// most recent AUDIO_BATCH payload from every other active client.
	// The destination's own contribution must be excluded from its mix.
	MixAudioFor(dest uuid.UUID, contributions map[uuid.UUID][]byte) ([]byte, error)
}

// PassthroughMixer is a no-op Mixer that forwards payloads unmodified.
// It is useful for tests and for deployments that render client-side.
type PassthroughMixer struct{}

// MixVideoFrame returns payload unchanged.
func (PassthroughMixer) MixVideoFrame(_ uuid.UUID, payload []byte) ([]byte, error) {
	return payload, nil
}

// MixAudioFor concatenates every contribution except dest's own, in map
// iteration order, which can differ from call to call; real
// mixing/resampling is the external mixer's job.
func (PassthroughMixer) MixAudioFor(dest uuid.UUID, contributions map[uuid.UUID][]byte) ([]byte, error) {
	var out []byte
	for id, data := range contributions {
		if id == dest {
			continue
		}
		out = append(out, data...)
	}
	return out, nil
}
