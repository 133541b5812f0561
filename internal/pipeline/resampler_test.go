package pipeline

import "testing"

func TestResamplerUpsampleProducesMoreFrames(t *testing.T) {
	r := NewResampler(22050, 44100, 1)
	input := make([]int32, 100)
	for i := range input {
		input[i] = int32(i)
	}
	output := make([]int32, 400)
	_, produced := r.Resample(input, output)
	if produced <= 100 {
		t.Fatalf("expected upsampling to produce more frames than input, got %d", produced)
	}
}

func TestResamplerSameRateIsIdentity(t *testing.T) {
	r := NewResampler(44100, 44100, 2)
	input := []int32{10, 20, 30, 40}
	output := make([]int32, 4)
	consumed, produced := r.Resample(input, output)
	if produced != 2 { // one frame short: needs idx+1 available
		t.Fatalf("expected 2 produced samples (1 stereo frame), got %d", produced)
	}
	_ = consumed
}

func TestRepackNarrowsBitDepth(t *testing.T) {
	src := Format{SampleRate: 44100, Channels: 2, BitsPerSample: 24}
	dst := Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}
	out := repack([]int32{1 << 16, -(1 << 16)}, src, dst)
	if out[0] != 256 {
		t.Fatalf("expected narrowed sample 256, got %d", out[0])
	}
	if out[1] != -256 {
		t.Fatalf("expected narrowed sample -256, got %d", out[1])
	}
}
