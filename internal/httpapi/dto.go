package httpapi

// deployRequestDTO is POST /deploy's body. Every field is optional; a
// missing or malformed body decodes to the zero value (spec.md §4.11:
// "JSON bodies are parsed defensively; missing fields yield empty strings
// or defaults").
type deployRequestDTO struct {
	ModelID string `json:"model_id"`
	HFToken string `json:"hf_token"`
	Port    int    `json:"port"`
}

type deployResponseDTO struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContainerID string `json:"container_id"`
	Port        int    `json:"port"`
}

type spindownRequestDTO struct {
	ModelID     string `json:"model_id"`
	ContainerID string `json:"container_id"`
}

type spindownResponseDTO struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type optimizeResponseDTO struct {
	Restarted []string `json:"restarted"`
}

type modelEntryDTO struct {
	ModelID       string `json:"model_id"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	Port          int    `json:"port"`
	Running       bool   `json:"running"`
}

type modelsResponseDTO struct {
	Total      int             `json:"total"`
	Running    int             `json:"running"`
	MaxAllowed int             `json:"max_allowed"`
	Models     []modelEntryDTO `json:"models"`
}
