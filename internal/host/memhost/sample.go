package memhost

import "VizBridge/internal/host"

// SampleFixture 返回一个内置的小型工作区：两个工作表 A、B 共享数据源 ds1。
func SampleFixture() *Fixture {
	ordersColumns := []ColumnFixture{
		{FieldName: "Category", DataType: host.DataTypeString},
		{FieldName: "Sales", DataType: host.DataTypeFloat},
		{FieldName: "Quantity", DataType: host.DataTypeInt},
	}
	orders := [][]any{
		{"Furniture", 261.96, 2},
		{"Office Supplies", 14.62, 2},
		{"Technology", 957.58, 5},
	}
	return &Fixture{
		Worksheets: []WorksheetFixture{
			{
				Name:        "A",
				DataSources: []string{"ds1"},
				Summary: TableFixture{
					Columns: []ColumnFixture{
						{FieldName: "Category", DataType: host.DataTypeString},
						{FieldName: "SUM(Sales)", DataType: host.DataTypeFloat},
					},
					Rows: [][]any{{"Furniture", 741999.8}, {"Office Supplies", 719047.0}, {"Technology", 836154.0}},
					Marks: []host.MarkInfo{
						{Color: "#4E79A7", Type: "bar"},
						{Color: "#4E79A7", Type: "bar"},
						{Color: "#4E79A7", Type: "bar"},
					},
				},
				Underlying: []TableFixture{{ID: "Orders_A", Caption: "Orders", Columns: ordersColumns, Rows: orders}},
			},
			{
				Name:        "B",
				DataSources: []string{"ds1"},
				Summary: TableFixture{
					Columns: []ColumnFixture{
						{FieldName: "Category", DataType: host.DataTypeString},
						{FieldName: "SUM(Quantity)", DataType: host.DataTypeInt},
					},
					Rows: [][]any{{"Furniture", 8028}, {"Office Supplies", 22906}, {"Technology", 6939}},
				},
				Underlying: []TableFixture{{ID: "Orders_B", Caption: "Orders", Columns: ordersColumns, Rows: orders}},
			},
		},
		DataSources: []DataSourceFixture{
			{
				ID:   "ds1",
				Name: "Sample - Superstore",
				Fields: []host.Field{
					{ID: "f1", Name: "Category", Aggregation: "none", Role: host.RoleDimension},
					{ID: "f2", Name: "Sales", Aggregation: "sum", Role: host.RoleMeasure},
					{ID: "f3", Name: "Quantity", Aggregation: "sum", Role: host.RoleMeasure},
					{ID: "f4", Name: "Profit Ratio", Aggregation: "agg", Role: host.RoleMeasure, IsCalculatedField: true},
				},
				LogicalTables: []TableFixture{{ID: "Orders_ds1", Caption: "Orders", Columns: ordersColumns, Rows: orders}},
			},
		},
	}
}
