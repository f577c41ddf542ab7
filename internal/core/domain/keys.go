package domain

import "fmt"

// Storage key conventions, §4.2. Centralized so the gateway, the workers
// that produce keys, and the orchestrator that deletes them never drift.
func ImageKey(imageID ImageID, index int, ext string) string {
	return fmt.Sprintf("images/%s/%d.%s", imageID, index, ext)
}

func ModelKey(modelID ModelID, ext string) string {
	return fmt.Sprintf("models/%s/model.%s", modelID, ext)
}

func ModelMTLKey(modelID ModelID) string {
	return fmt.Sprintf("models/%s/material.mtl", modelID)
}

func ModelTextureKey(modelID ModelID, ext string) string {
	return fmt.Sprintf("models/%s/material.%s", modelID, ext)
}

func ModelPreviewKey(modelID ModelID) string {
	return fmt.Sprintf("models/%s/preview.png", modelID)
}
