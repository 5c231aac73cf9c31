package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// HWAccel represents a hardware acceleration method available for the
// H.264 encode path. Unlike a general-purpose transcoder, this Engine
// only ever targets H.264 (libx264 or a hardware h264_* variant) — see
// the codec selection in filtergraph's buildVideo — so encoder selection here is
// narrowed to that one codec rather than the HEVC/AV1 matrix a
// general compression tool would offer.
type HWAccel string

const (
	HWAccelNone         HWAccel = "none"
	HWAccelVideoToolbox HWAccel = "videotoolbox"
	HWAccelNVENC        HWAccel = "nvenc"
	HWAccelQSV          HWAccel = "qsv"
	HWAccelVAAPI        HWAccel = "vaapi"
)

// HWEncoder describes one candidate H.264 encoder.
type HWEncoder struct {
	Accel     HWAccel
	Name      string
	Encoder   string // FFmpeg encoder name, e.g. "h264_nvenc"
	Available bool
}

// QSVInitMode indicates how QSV should be initialized on Linux.
type QSVInitMode int

const (
	QSVInitDirect QSVInitMode = iota
	QSVInitVAAPI
)

// NVENCInitMode indicates how NVENC should be initialized.
type NVENCInitMode int

const (
	NVENCInitSimple NVENCInitMode = iota
	NVENCInitExplicit
)

type availableEncoderSet struct {
	mu            sync.RWMutex
	encoders      map[HWAccel]*HWEncoder
	detected      bool
	vaapiDevice   string
	qsvInitMode   QSVInitMode
	nvencInitMode NVENCInitMode
}

var encoderSet = &availableEncoderSet{encoders: make(map[HWAccel]*HWEncoder)}

var allEncoderDefs = []*HWEncoder{
	{Accel: HWAccelVideoToolbox, Name: "VideoToolbox H.264", Encoder: "h264_videotoolbox"},
	{Accel: HWAccelNVENC, Name: "NVENC H.264", Encoder: "h264_nvenc"},
	{Accel: HWAccelQSV, Name: "Quick Sync H.264", Encoder: "h264_qsv"},
	{Accel: HWAccelVAAPI, Name: "VAAPI H.264", Encoder: "h264_vaapi"},
	{Accel: HWAccelNone, Name: "Software H.264", Encoder: "libx264", Available: true},
}

// DetectEncoders probes ffmpeg to discover which hardware H.264
// encoders actually work on this host, caching the result for the
// life of the process.
func DetectEncoders(ffmpegPath string) map[HWAccel]*HWEncoder {
	encoderSet.mu.Lock()
	defer encoderSet.mu.Unlock()

	if encoderSet.detected {
		return copyEncoders(encoderSet.encoders)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		encoderSet.encoders[HWAccelNone] = &HWEncoder{Accel: HWAccelNone, Name: "Software H.264", Encoder: "libx264", Available: true}
		encoderSet.detected = true
		return copyEncoders(encoderSet.encoders)
	}

	encoderList := string(output)
	for _, def := range allEncoderDefs {
		encCopy := *def
		if !strings.Contains(encoderList, def.Encoder) {
			encCopy.Available = false
			encoderSet.encoders[def.Accel] = &encCopy
			continue
		}
		if def.Accel == HWAccelNone {
			encCopy.Available = true
		} else {
			encCopy.Available = testEncoder(ffmpegPath, def.Encoder)
		}
		encoderSet.encoders[def.Accel] = &encCopy
	}

	encoderSet.detected = true
	return copyEncoders(encoderSet.encoders)
}

func detectVAAPIDevice() string {
	entries, err := os.ReadDir("/dev/dri")
	if err != nil {
		return ""
	}
	var devices []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "renderD") {
			devices = append(devices, filepath.Join("/dev/dri", entry.Name()))
		}
	}
	sort.Strings(devices)
	if len(devices) > 0 {
		return devices[0]
	}
	return ""
}

func testEncoder(ffmpegPath, encoder string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var args []string

	switch {
	case strings.Contains(encoder, "qsv") && runtime.GOOS == "linux":
		direct := []string{
			"-init_hw_device", "qsv=qsv", "-filter_hw_device", "qsv",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-vf", "format=nv12,hwupload=extra_hw_frames=64",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		if exec.CommandContext(ctx, ffmpegPath, direct...).Run() == nil {
			encoderSet.qsvInitMode = QSVInitDirect
			return true
		}
		device := detectVAAPIDevice()
		if device == "" {
			return false
		}
		encoderSet.vaapiDevice = device
		viaVAAPI := []string{
			"-init_hw_device", "vaapi=va:" + device,
			"-init_hw_device", "qsv=qs@va", "-filter_hw_device", "qs",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-vf", "format=nv12,hwupload=extra_hw_frames=64",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		if exec.CommandContext(ctx, ffmpegPath, viaVAAPI...).Run() == nil {
			encoderSet.qsvInitMode = QSVInitVAAPI
			return true
		}
		return false

	case strings.Contains(encoder, "vaapi"):
		device := detectVAAPIDevice()
		if device == "" {
			return false
		}
		encoderSet.vaapiDevice = device
		args = []string{
			"-init_hw_device", "vaapi=va:" + device, "-filter_hw_device", "va",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-vf", "format=nv12,hwupload",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}

	case strings.Contains(encoder, "nvenc"):
		simple := []string{
			"-hwaccel", "cuda", "-hwaccel_output_format", "cuda",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		if exec.CommandContext(ctx, ffmpegPath, simple...).Run() == nil {
			encoderSet.nvencInitMode = NVENCInitSimple
			return true
		}
		explicit := []string{
			"-init_hw_device", "cuda=cu:0", "-filter_hw_device", "cu",
			"-hwaccel", "cuda", "-hwaccel_output_format", "cuda",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		if exec.CommandContext(ctx, ffmpegPath, explicit...).Run() == nil {
			encoderSet.nvencInitMode = NVENCInitExplicit
			return true
		}
		return false

	default:
		args = []string{
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
	}

	return exec.CommandContext(ctx, ffmpegPath, args...).Run() == nil
}

// GetVAAPIDevice returns the auto-detected VAAPI render node, falling
// back to the common default path.
func GetVAAPIDevice() string {
	encoderSet.mu.RLock()
	defer encoderSet.mu.RUnlock()
	if encoderSet.vaapiDevice != "" {
		return encoderSet.vaapiDevice
	}
	return "/dev/dri/renderD128"
}

func copyEncoders(src map[HWAccel]*HWEncoder) map[HWAccel]*HWEncoder {
	dst := make(map[HWAccel]*HWEncoder, len(src))
	for k, v := range src {
		c := *v
		dst[k] = &c
	}
	return dst
}

// encoderPriority orders candidates best-first: a platform's native
// hardware encoder, then software as the universal fallback.
var encoderPriority = []HWAccel{HWAccelVideoToolbox, HWAccelNVENC, HWAccelQSV, HWAccelVAAPI, HWAccelNone}

// BestEncoder returns the highest-priority available H.264 encoder
// name ("h264_nvenc", "libx264", ...). DetectEncoders must have been
// called at least once; if it hasn't, this returns libx264.
func BestEncoder() string {
	encoderSet.mu.RLock()
	defer encoderSet.mu.RUnlock()
	for _, accel := range encoderPriority {
		if enc, ok := encoderSet.encoders[accel]; ok && enc.Available {
			return enc.Encoder
		}
	}
	return "libx264"
}

// FallbackEncoder returns the next-best available encoder after
// current's priority position, or "" once software has already been
// tried (there is nowhere further to fall back to).
func FallbackEncoder(current string) string {
	encoderSet.mu.RLock()
	defer encoderSet.mu.RUnlock()

	currentIdx := -1
	for i, accel := range encoderPriority {
		if enc, ok := encoderSet.encoders[accel]; ok && enc.Encoder == current {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 || current == "libx264" {
		return ""
	}
	for i := currentIdx + 1; i < len(encoderPriority); i++ {
		accel := encoderPriority[i]
		if accel == HWAccelNone {
			return "libx264"
		}
		if enc, ok := encoderSet.encoders[accel]; ok && enc.Available {
			return enc.Encoder
		}
	}
	return ""
}
