package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type wavFormat struct {
	sampleRate int
	channels   int
	bitDepth   int
}

// loadWAV reads a RIFF/WAVE file and returns its PCM converted to the
// player's native format (44100 Hz stereo int16).
func loadWAV(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	format, pcm, err := parseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return convertPCM(format, pcm)
}

// parseWAV walks the RIFF chunks and extracts the format and data sections.
func parseWAV(data []byte) (wavFormat, []byte, error) {
	var format wavFormat

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return format, nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	r := bytes.NewReader(data[12:])
	var pcm []byte
	sawFormat := false

	for {
		var header struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
			if err == io.EOF {
				break
			}
			return format, nil, err
		}

		chunk := make([]byte, header.Size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return format, nil, fmt.Errorf("truncated %q chunk: %w", header.ID, err)
		}
		// Chunks are word aligned; odd sizes carry a pad byte.
		if header.Size%2 == 1 {
			if _, err := r.Seek(1, io.SeekCurrent); err != nil {
				return format, nil, err
			}
		}

		switch string(header.ID[:]) {
		case "fmt ":
			if len(chunk) < 16 {
				return format, nil, fmt.Errorf("fmt chunk too short")
			}
			audioFormat := binary.LittleEndian.Uint16(chunk[0:2])
			if audioFormat != 1 {
				return format, nil, fmt.Errorf("unsupported encoding %d (PCM only)", audioFormat)
			}
			format.channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			format.sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			format.bitDepth = int(binary.LittleEndian.Uint16(chunk[14:16]))
			sawFormat = true
		case "data":
			pcm = chunk
		}
	}

	if !sawFormat {
		return format, nil, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return format, nil, fmt.Errorf("missing data chunk")
	}
	return format, pcm, nil
}

// convertPCM adapts parsed WAV audio to the player's context format. Only the
// channel layout is adapted; resampling is out of scope, so the file must
// already use the native rate.
func convertPCM(format wavFormat, pcm []byte) ([]byte, error) {
	if format.bitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (16-bit PCM required)", format.bitDepth)
	}
	if format.sampleRate != sampleRate {
		return nil, fmt.Errorf("unsupported sample rate %d (%d required)", format.sampleRate, sampleRate)
	}

	switch format.channels {
	case channelCount:
		return pcm, nil
	case 1:
		// Duplicate the mono channel into both stereo channels.
		out := make([]byte, 0, len(pcm)*2)
		for i := 0; i+1 < len(pcm); i += 2 {
			out = append(out, pcm[i], pcm[i+1], pcm[i], pcm[i+1])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", format.channels)
	}
}
