package detector

// ClassNames is the label table of the PPE model, indexed by class id.
var ClassNames = []string{
	"Excavator", "Gloves", "Hardhat", "Ladder", "Mask", "NO-Hardhat", "NO-Mask",
	"NO-Safety Vest", "Person", "SUV", "Safety Cone", "Safety Vest", "bus",
	"dump truck", "fire hydrant", "machinery", "mini-van", "sedan",
	"semi", "trailer", "truck and trailer", "truck", "van",
	"vehicle", "wheel loader",
}

// Labels of the classes that denote missing safety gear.
const (
	ClassMissingHardhat = "NO-Hardhat"
	ClassMissingMask    = "NO-Mask"
	ClassMissingVest    = "NO-Safety Vest"
)

// ViolationClasses lists the labels that count as a safety violation.
var ViolationClasses = []string{ClassMissingHardhat, ClassMissingMask, ClassMissingVest}

// ClassName resolves a class id against the model's table.
func ClassName(id int) (string, bool) {
	if id < 0 || id >= len(ClassNames) {
		return "", false
	}
	return ClassNames[id], true
}
