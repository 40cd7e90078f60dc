package audio

// MixGain scales every contribution to a mix. It bounds the summed amplitude
// when several speakers overlap; it is not a loudness normalisation.
const MixGain = 2.0 / 3.0

// MixExcluding builds, for every key in fragments, the sample-wise sum of all
// other fragments scaled by gain. Fragments shorter than the longest are
// treated as zero-padded. With fewer than two fragments there is nothing to
// relay and the result is nil.
func MixExcluding[K comparable](fragments map[K]Frames, gain float64) map[K]Frames {
	if len(fragments) < 2 {
		return nil
	}

	channels, longest := 0, 0
	for _, f := range fragments {
		if f.Channels > channels {
			channels = f.Channels
		}
		if len(f.Samples) > longest {
			longest = len(f.Samples)
		}
	}

	mixes := make(map[K]Frames, len(fragments))
	for recipient := range fragments {
		out := make([]float64, longest)
		for key, f := range fragments {
			if key == recipient {
				continue
			}
			for i, s := range f.Samples {
				out[i] += s * gain
			}
		}
		mixes[recipient] = Frames{Channels: channels, Samples: out}
	}
	return mixes
}
