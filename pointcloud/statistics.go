package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// DepthStatistics summarizes the Z values of a cloud, in the cloud's units.
type DepthStatistics struct {
	Count  int
	Mean   float64
	Median float64
	StdDev float64
	P5     float64
	P95    float64
}

// ComputeDepthStatistics returns statistics over the Z values of the cloud.
func ComputeDepthStatistics(cloud PointCloud) (DepthStatistics, error) {
	if cloud == nil || cloud.Size() == 0 {
		return DepthStatistics{}, errors.New("cannot compute statistics of an empty point cloud")
	}
	zs := make(stats.Float64Data, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		zs = append(zs, p.Z)
		return true
	})

	var (
		st  = DepthStatistics{Count: len(zs)}
		err error
	)
	if st.Mean, err = stats.Mean(zs); err != nil {
		return DepthStatistics{}, err
	}
	if st.Median, err = stats.Median(zs); err != nil {
		return DepthStatistics{}, err
	}
	if st.StdDev, err = stats.StandardDeviation(zs); err != nil {
		return DepthStatistics{}, err
	}
	if st.P5, err = stats.PercentileNearestRank(zs, 5); err != nil {
		return DepthStatistics{}, err
	}
	if st.P95, err = stats.PercentileNearestRank(zs, 95); err != nil {
		return DepthStatistics{}, err
	}
	return st, nil
}
