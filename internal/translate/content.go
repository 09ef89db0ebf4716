package translate

// Content part mapping between the two formats.
//
// Chat:      {"type":"text","text":...}
//            {"type":"image_url","image_url":{"url":...,"detail":...}}
//            {"type":"input_audio","input_audio":{...}}
// Responses: {"type":"input_text","text":...}
//            {"type":"input_image","image_url":<url>,"detail":...}
//            {"type":"input_audio","input_audio":{...}}
//
// Simple string content passes through unchanged in both directions, as do
// parts with unrecognized types.

func contentToResponses(content any) any {
	parts, ok := content.([]any)
	if !ok {
		return content
	}
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		obj, ok := p.(map[string]any)
		if !ok {
			out = append(out, p)
			continue
		}
		typ, _ := obj["type"].(string)
		switch typ {
		case "text":
			part := map[string]any{"type": "input_text"}
			if t, ok := obj["text"]; ok {
				part["text"] = t
			}
			out = append(out, part)
		case "image_url":
			part := map[string]any{"type": "input_image"}
			if iu, ok := obj["image_url"].(map[string]any); ok {
				if url, ok := iu["url"]; ok {
					part["image_url"] = url
				}
				if detail, ok := iu["detail"]; ok {
					part["detail"] = detail
				}
			}
			out = append(out, part)
		default:
			out = append(out, p)
		}
	}
	return out
}

func contentToChat(content any) any {
	parts, ok := content.([]any)
	if !ok {
		return content
	}
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		obj, ok := p.(map[string]any)
		if !ok {
			out = append(out, p)
			continue
		}
		typ, _ := obj["type"].(string)
		switch typ {
		case "input_text":
			part := map[string]any{"type": "text"}
			if t, ok := obj["text"]; ok {
				part["text"] = t
			}
			out = append(out, part)
		case "input_image":
			imageURL := map[string]any{}
			if url, ok := obj["image_url"]; ok {
				imageURL["url"] = url
			}
			if detail, ok := obj["detail"]; ok {
				imageURL["detail"] = detail
			}
			out = append(out, map[string]any{"type": "image_url", "image_url": imageURL})
		default:
			out = append(out, p)
		}
	}
	return out
}
