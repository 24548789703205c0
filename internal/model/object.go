package model

// ObjectType tags a tracked model object.
type ObjectType string

const (
	ObjectTypeUAV    ObjectType = "uav"
	ObjectTypeBeacon ObjectType = "beacon"
	ObjectTypeDock   ObjectType = "dock"
)

// Object is anything tracked by the object registry: UAVs, beacons,
// docking stations.
type Object interface {
	// ObjectID returns the unique identifier of the object.
	ObjectID() string
	// ObjectType returns the type tag of the object.
	ObjectType() ObjectType
}
