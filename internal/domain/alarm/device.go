package alarm

// DeviceInfo is the diagnostic description of the panel.
type DeviceInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Model       string `json:"model,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Category    string `json:"category,omitempty"`
	Online      bool   `json:"online"`
}
