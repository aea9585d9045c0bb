package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EncodeRequest lays a request out as [json, (target worker), command].
func EncodeRequest(req Request) ([][]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	frames := [][]byte{payload}
	if len(req.TargetWorker) > 0 {
		frames = append(frames, cloneFrame(req.TargetWorker))
	}
	return append(frames, []byte(req.Command)), nil
}

// DecodeRequest is the server-side inverse of EncodeRequest. Leading empty delimiter
// frames are dropped.
func DecodeRequest(frames [][]byte) (Request, error) {
	frames = trimEmpty(frames)
	if len(frames) < 2 || len(frames) > 3 {
		return Request{}, fmt.Errorf("decode request: expected 2 or 3 frames, got %d", len(frames))
	}

	var req Request
	if err := json.Unmarshal(frames[0], &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	command := string(frames[len(frames)-1])
	if req.Command == "" {
		req.Command = command
	}
	if req.Command != command {
		return Request{}, fmt.Errorf("decode request: command frame %q does not match envelope %q", command, req.Command)
	}
	if len(frames) == 3 {
		req.TargetWorker = cloneFrame(frames[1])
	}
	if err := req.Validate(); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// EncodeResponse lays a response out as [json, (worker address)].
func EncodeResponse(resp Response) ([][]byte, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	frames := [][]byte{payload}
	if len(resp.WorkerAddress) > 0 {
		frames = append(frames, cloneFrame(resp.WorkerAddress))
	}
	return frames, nil
}

// DecodeResponse reads [address frames..., json, (worker address)]. Address and delimiter
// frames ahead of the JSON body are discarded.
func DecodeResponse(frames [][]byte) (Response, error) {
	idx := -1
	for i, frame := range frames {
		if isJSONObject(frame) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Response{}, errors.New("decode response: no JSON body frame")
	}

	var resp Response
	if err := json.Unmarshal(frames[idx], &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if idx+1 < len(frames) && len(frames[idx+1]) > 0 {
		resp.WorkerAddress = cloneFrame(frames[idx+1])
	}
	if err := resp.Validate(); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func isJSONObject(frame []byte) bool {
	trimmed := bytes.TrimSpace(frame)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func trimEmpty(frames [][]byte) [][]byte {
	for len(frames) > 0 && len(frames[0]) == 0 {
		frames = frames[1:]
	}
	return frames
}

func cloneFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}
