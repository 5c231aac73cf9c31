package ffmpeg

import "testing"

func TestHWAccelConstants(t *testing.T) {
	accels := map[HWAccel]string{
		HWAccelNone:         "none",
		HWAccelVideoToolbox: "videotoolbox",
		HWAccelNVENC:        "nvenc",
		HWAccelQSV:          "qsv",
		HWAccelVAAPI:        "vaapi",
	}
	for accel, expected := range accels {
		if string(accel) != expected {
			t.Errorf("HWAccel constant %v should be %q, got %q", accel, expected, string(accel))
		}
	}
}

func TestBestEncoderDefaultsToSoftware(t *testing.T) {
	// Without calling DetectEncoders, BestEncoder must still return a
	// usable encoder rather than an empty string.
	encoderSet.mu.Lock()
	encoderSet.detected = false
	encoderSet.encoders = make(map[HWAccel]*HWEncoder)
	encoderSet.mu.Unlock()

	if got := BestEncoder(); got != "libx264" {
		t.Errorf("BestEncoder() with no detection run = %q, want libx264", got)
	}
}

func TestBestEncoderPrefersHardwareWhenAvailable(t *testing.T) {
	encoderSet.mu.Lock()
	encoderSet.detected = true
	encoderSet.encoders = map[HWAccel]*HWEncoder{
		HWAccelNVENC: {Accel: HWAccelNVENC, Encoder: "h264_nvenc", Available: true},
		HWAccelNone:  {Accel: HWAccelNone, Encoder: "libx264", Available: true},
	}
	encoderSet.mu.Unlock()

	if got := BestEncoder(); got != "h264_nvenc" {
		t.Errorf("BestEncoder() = %q, want h264_nvenc", got)
	}
}

func TestFallbackEncoderReachesSoftwareEventually(t *testing.T) {
	encoderSet.mu.Lock()
	encoderSet.detected = true
	encoderSet.encoders = map[HWAccel]*HWEncoder{
		HWAccelNVENC: {Accel: HWAccelNVENC, Encoder: "h264_nvenc", Available: true},
		HWAccelQSV:   {Accel: HWAccelQSV, Encoder: "h264_qsv", Available: false},
		HWAccelVAAPI: {Accel: HWAccelVAAPI, Encoder: "h264_vaapi", Available: false},
		HWAccelNone:  {Accel: HWAccelNone, Encoder: "libx264", Available: true},
	}
	encoderSet.mu.Unlock()

	if got := FallbackEncoder("h264_nvenc"); got != "libx264" {
		t.Errorf("FallbackEncoder(h264_nvenc) = %q, want libx264 (qsv/vaapi unavailable)", got)
	}
	if got := FallbackEncoder("libx264"); got != "" {
		t.Errorf("FallbackEncoder(libx264) = %q, want empty (no fallback past software)", got)
	}
}
