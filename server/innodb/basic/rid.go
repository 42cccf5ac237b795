package basic

import "fmt"

// RID 记录定位符(cluster, position)
type RID struct {
	ClusterID int16
	Position  int64
}

func NewRID(clusterID int16, position int64) RID {
	return RID{ClusterID: clusterID, Position: position}
}

func (r RID) String() string {
	return fmt.Sprintf("#%d:%d", r.ClusterID, r.Position)
}

func CompareRID(a, b RID) int {
	switch {
	case a.ClusterID < b.ClusterID:
		return -1
	case a.ClusterID > b.ClusterID:
		return 1
	case a.Position < b.Position:
		return -1
	case a.Position > b.Position:
		return 1
	}
	return 0
}
