package diagnosis

import (
	"strings"

	types "github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// diseaseAliases maps session disease types to registry disease names.
var diseaseAliases = map[string]string{
	"parasites": "parasite",
}

// segmentationAliases apply only to segmentation requests.
var segmentationAliases = map[string]string{
	"blood_abnormalities": "general",
}

// NormalizeDisease maps a session disease type onto the name the registry
// knows. Unknown names pass through and resolve to the registry default.
func NormalizeDisease(disease string, task types.TaskType) string {
	d := strings.ToLower(strings.TrimSpace(disease))
	if task == types.TaskSegmentation {
		if alias, ok := segmentationAliases[d]; ok {
			return alias
		}
	}
	if alias, ok := diseaseAliases[d]; ok {
		return alias
	}
	return d
}
